package service_test

import (
	"testing"

	"github.com/CZERTAINLY/Recon/internal/service"

	"github.com/stretchr/testify/require"
)

func TestParseCron(t *testing.T) {
	t.Parallel()
	cases := []struct {
		scenario string
		given    string
		err      string
	}{
		{"valid_5_fields", "*/15 * * * *", ""},
		{"macro_hourly", "@hourly", ""},
		{"macro_every", "@every 5m", ""},
		{"seconds_not_supported", "0 */2 * * * *", "expected exactly 5 fields, found 6: [0 */2 * * * *]"},
		{"invalid_token", "* * 32 * *", "end of range (32) above maximum (31): 32"},
		{"empty", "  ", "empty cron expression"},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()
			err := service.ParseCron(tc.given)
			if tc.err != "" {
				require.EqualError(t, err, tc.err)
				return
			}
			require.NoError(t, err)
		})
	}
}
