//go:build ignore

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Payload struct {
	Value any    `json:"value"`
	Type  string `json:"type,omitempty"`
}

func main() {
	baseURL := "http://localhost:8000/api/data"

	data := map[string]Payload{
		"alice":       {Value: "engineer"},
		"bob":         {Value: "designer"},
		"charlie":     {Value: "manager"},
		"volume":      {Value: 7},
		"ratio":       {Value: 0.75},
		"muted":       {Value: false},
		"dark-mode":   {Value: true},
		"launched-at": {Value: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC).Format(time.RFC3339), Type: "Date"},
		"visits":      {Value: "900719925474099100000", Type: "BigInt"},
		"tags":        {Value: []string{"fruit", "yellow"}},
		"profile":     {Value: map[string]any{"name": "diana", "role": "analyst"}},
		"nothing":     {Value: nil},
	}

	client := &http.Client{}

	for key, payload := range data {
		url := fmt.Sprintf("%s/%s", baseURL, key)

		jsonData, err := json.Marshal(payload)
		if err != nil {
			fmt.Printf("Error marshaling JSON for %s: %v\n", key, err)
			continue
		}

		req, err := http.NewRequest(http.MethodPut, url, bytes.NewBuffer(jsonData))
		if err != nil {
			fmt.Printf("Error creating request for %s: %v\n", key, err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			fmt.Printf("Error sending request for %s: %v\n", key, err)
			continue
		}
		resp.Body.Close()

		fmt.Printf("PUT %s -> %v (status: %d)\n", key, payload.Value, resp.StatusCode)
	}

	fmt.Printf("\nDone! Populated %d typed values.\n", len(data))
}
