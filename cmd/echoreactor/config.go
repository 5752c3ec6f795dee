package main

import (
	"encoding/json"
	"os"
)

// Config holds the tunable knobs for the echo server demo.
type Config struct {
	Listen       string `json:"listen"`
	Threads      int    `json:"threads"`
	MaxFd        int    `json:"maxfd"`
	TimerThreads int    `json:"timerthreads"`
	IdleTimeout  int    `json:"idletimeout"` // seconds; 0 disables
	Log          string `json:"log"`
	Quiet        bool   `json:"quiet"`
}

func parseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}
