package coordination

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerRecord_Address(t *testing.T) {
	tests := map[string]struct {
		host string
		want string
	}{
		"hostname": {host: "localhost", want: "localhost:9092"},
		"ipv4":     {host: "127.0.0.1", want: "127.0.0.1:9092"},
		"ipv6":     {host: "::1", want: "[::1]:9092"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			data, err := json.Marshal(BrokerRecord{ID: 4, Host: tc.host, Port: 9092})
			require.NoError(t, err)
			record, err := ParseBrokerRecord(data)
			require.NoError(t, err)
			assert.Equal(t, tc.want, record.Address())
		})
	}
}
