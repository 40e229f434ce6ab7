package config

import "time"

type Settings struct {
	ServerURL      string `validate:"required,url"`
	ConsoleHost    string `validate:"required"` // host the console transport connects to
	UseSSL         bool
	CaCert         string // CA certificate file path
	SSLVerify      bool
	BrokerTimeout  time.Duration `validate:"gt=0"`
	ConnectTimeout time.Duration `validate:"gte=0"` // 0 = no deadline on the transport handshake
	ReleaseRetries int           `validate:"gte=0"`
	PoolMaxWorkers int           `validate:"gt=0"` // Maximum number of workers running asynchronous opens
	PoolQueueSize  int           `validate:"gt=0"`
	LedgerPath     string
	Debug          bool
}

type Config struct {
	Server struct {
		URL         string `ini:"url"`
		ConsoleHost string `ini:"console_host"`
	} `ini:"server"`
	SSL struct {
		Verify bool   `ini:"verify"`
		CaCert string `ini:"ca_cert"`
	} `ini:"ssl"`
	Logging struct {
		Debug bool `ini:"debug"`
	} `ini:"logging"`
	Console struct {
		BrokerTimeout  int  `ini:"broker_timeout"`
		ConnectTimeout *int `ini:"connect_timeout"`
		ReleaseRetries *int `ini:"release_retries"`
	} `ini:"console"`
	Pool struct {
		MaxWorkers int `ini:"max_workers"`
		QueueSize  int `ini:"queue_size"`
	} `ini:"pool"`
	Ledger struct {
		Path string `ini:"path"`
	} `ini:"ledger"`
}
