// Command rotator_logger records rotator status snapshots in InfluxDB.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/w1xm/eme_rotator/easycomm"
	"github.com/w1xm/eme_rotator/rotator"
)

const measurement = "rotator.status"

var (
	org         = flag.String("org", "w1xm", "InfluxDB organization")
	bucket      = flag.String("bucket", "rotator.raw", "InfluxDB bucket")
	easycomAddr = flag.String("easycom", "", "poll an Easycom controller at this address instead of the status websocket")
)

func main() {
	flag.Parse()
	// Create client
	server := os.Getenv("INFLUX_SERVER")
	if server == "" {
		server = "http://localhost:9999"
	}
	client := influxdb2.NewClient(server, os.Getenv("INFLUX_TOKEN"))
	defer client.Close()
	// Get non-blocking write client
	writeApi := client.WriteApi(*org, *bucket)
	defer writeApi.Close()
	// Get errors channel
	errorsCh := writeApi.Errors()
	// Create go proc for reading and logging errors
	go func() {
		for err := range errorsCh {
			log.Printf("write error: %v", err)
		}
	}()

	if *easycomAddr != "" {
		logEasycom(context.Background(), writeApi, *easycomAddr)
		return
	}
	for {
		if err := logData(writeApi); err != nil {
			log.Print(err)
		}
		time.Sleep(1 * time.Second)
	}
}

func flattenStatus(fields map[string]interface{}, status interface{}, prefix string) {
	switch status := status.(type) {
	case map[string]interface{}:
		for k, v := range status {
			flattenStatus(fields, v, prefix+"."+k)
		}
	case []interface{}:
		for k, v := range status {
			flattenStatus(fields, v, fmt.Sprintf("%s.%d", prefix, k))
		}
	default:
		fields[prefix[1:]] = status
	}
}

// statusFields flattens a status snapshot into InfluxDB fields named after
// its JSON keys.
func statusFields(status rotator.Status) (map[string]interface{}, error) {
	data, err := json.Marshal(status)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	fields := make(map[string]interface{})
	flattenStatus(fields, generic, "")
	return fields, nil
}

func logData(writeApi api.WriteApi) error {
	url := os.Getenv("ROTATOR_ADDRESS")
	if url == "" {
		url = "ws://localhost:8502/api/ws"
	}
	defer writeApi.Flush()
	var dialer websocket.Dialer
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	for {
		var status interface{}
		if err := conn.ReadJSON(&status); err != nil {
			return err
		}
		fields := make(map[string]interface{})
		flattenStatus(fields, status, "")

		p := influxdb2.NewPoint(measurement,
			nil,
			fields,
			time.Now(),
		)
		// write asynchronously
		writeApi.WritePoint(p)
	}
}

// logEasycom polls a controller that only speaks Easycom, once a second.
// Only positions are available this way.
func logEasycom(ctx context.Context, writeApi api.WriteApi, addr string) {
	statuses := make(chan rotator.Status, 16)
	_, err := easycomm.ConnectTCP(ctx, addr, func(status rotator.Status) {
		select {
		case statuses <- status:
		default:
			log.Print("dropping status; writer is behind")
		}
	})
	if err != nil {
		log.Fatal(err)
	}
	for status := range statuses {
		fields, err := statusFields(status)
		if err != nil {
			log.Print(err)
			continue
		}
		writeApi.WritePoint(influxdb2.NewPoint(measurement, map[string]string{"source": addr}, fields, time.Now()))
	}
}
