// Package mqtt connects the cell controller to an MQTT broker.
//
// The broker is the cell's northbound bus: node values, method results,
// anomaly verdicts and health are published under cell/{cell_id}/..., and
// method invocations and HMI move requests arrive on the same tree. The
// topic layout lives in Topics.
//
// The client wraps paho.mqtt.golang with:
//   - Auto-reconnect with backoff and subscription restore
//   - A retained Last Will on cell/{cell_id}/status for offline detection
//   - Panic recovery around message handlers
//
// # Security Considerations
//
//   - Enable TLS (cfg.Broker.TLS) when the broker is not on the cell LAN
//   - Set credentials through CELLCORE_MQTT_USERNAME / CELLCORE_MQTT_PASSWORD
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Cell.ID)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.AllMethods(), 1,
//	    func(topic string, payload []byte) error {
//	        name, _ := topics.MethodName(topic)
//	        log.Printf("invoke %s", name)
//	        return nil
//	    })
package mqtt
