package config

import (
	"time"
)

func Defaults() *Config {

	return &Config{
		LayoutPath:    "config.json",
		TelemetryPath: "/home/fio/portenta_linux_bridge/pid_log.csv",
		DefaultMode:   "local",

		UDP: UDPConfig{
			Listen:    ":17751",
			ReadPoll:  10 * time.Millisecond,
			PageDelay: 10 * time.Millisecond,
		},

		TTY: TTYConfig{
			Device:      "/dev/ttymxc1",
			BaudRate:    115200,
			DataBits:    8,
			StopBits:    1,
			Parity:      "none",
			ReadTimeout: 50 * time.Millisecond,
		},

		RPC: RPCConfig{
			Address:     "m4-proxy:5001",
			Timeout:     50 * time.Millisecond,
			Retries:     1,
			Backoff:     50 * time.Millisecond,
			PollTimeout: 500 * time.Millisecond,
			Verify:      true,
		},

		Loop: LoopConfig{
			PollInterval:      100 * time.Millisecond,
			BroadcastInterval: 200 * time.Millisecond,
			Idle:              10 * time.Millisecond,
			ReadyDelay:        4 * time.Second,
		},

		Sync: SyncConfig{
			Enabled:  false,
			Interval: time.Second,
		},

		Protocol: ProtocolConfig{
			KeyTag: "WOODRUFF",
		},

		Web: WebConfig{
			Enabled: false,
			Host:    "0.0.0.0",
			Port:    8080,
		},
	}
}
