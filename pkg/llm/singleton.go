package llm

import (
	"encoding/json"
	"sync"

	"github.com/elisa-build/elisa/pkg/config"
)

var (
	singletonMu sync.Mutex
	singleton   Client
)

// Shared returns the process-wide client, constructing it on first use.
func Shared(cfg *config.Config) (Client, error) {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton != nil {
		return singleton, nil
	}
	c, err := NewOpenAIClient(cfg)
	if err != nil {
		return nil, err
	}
	singleton = c
	return singleton, nil
}

// SetShared replaces the process-wide client. Test hook; also used when
// the API key changes through the dev config endpoint.
func SetShared(c Client) {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton != nil && c != singleton {
		_ = singleton.Close()
	}
	singleton = c
}

// ResetShared drops the singleton so the next Shared call rebuilds it.
func ResetShared() {
	SetShared(nil)
}

// rawSchema converts a JSON schema string into a value the vendor SDK can
// marshal verbatim.
func rawSchema(s string) json.RawMessage {
	if s == "" {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return json.RawMessage(s)
}
