package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Session struct {
		HandshakeTimeoutSeconds int `yaml:"handshake_timeout_seconds"`
		// stop after this many messages per feed; <= 0 means run forever
		MaxMessages int `yaml:"max_messages"`
	} `yaml:"session"`
	Dashboard struct {
		Enabled bool    `yaml:"enabled"`
		BinSize float64 `yaml:"bin_size"`
	} `yaml:"dashboard"`
	Feeds struct {
		Coinbase struct {
			Enabled   bool   `yaml:"enabled"`
			WSURL     string `yaml:"ws_url"`
			APIKey    string `yaml:"api_key"`
			APISecret string `yaml:"api_secret"`
			Product   string `yaml:"product"`
		} `yaml:"coinbase"`
		Binance struct {
			Enabled      bool   `yaml:"enabled"`
			WSURL        string `yaml:"ws_url"`
			SnapshotURL  string `yaml:"snapshot_url"`
			APIKey       string `yaml:"api_key"`
			Symbol       string `yaml:"symbol"`
			UseStreamSub bool   `yaml:"use_stream_sub"`
		} `yaml:"binance"`
	} `yaml:"feeds"`
}

func defaultConfig() Config {
	var c Config
	c.Logging.Level = "info"
	c.Logging.Pretty = false
	c.Server.Addr = ":9090"
	c.Session.HandshakeTimeoutSeconds = 15
	c.Session.MaxMessages = 0
	c.Dashboard.Enabled = true
	c.Dashboard.BinSize = 0.2
	c.Feeds.Coinbase.WSURL = "wss://advanced-trade-ws.coinbase.com"
	c.Feeds.Coinbase.Product = "ETH-USD"
	c.Feeds.Binance.WSURL = "wss://stream.binance.us:9443/ws"
	c.Feeds.Binance.SnapshotURL = "https://www.binance.us/api/v1/depth"
	c.Feeds.Binance.Symbol = "ETHUSD"
	return c
}

// Load reads the YAML file at path (or $BOOKWATCH_CONFIG, or config.yaml)
// on top of built-in defaults. A missing file is fine; a malformed one is
// not.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv("BOOKWATCH_CONFIG")
	}
	if path == "" {
		path = "config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
