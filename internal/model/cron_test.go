package model_test

import (
	"errors"
	"testing"
	"time"

	"github.com/CZERTAINLY/srvmgr/internal/model"

	"github.com/stretchr/testify/require"
)

func TestParseCron(t *testing.T) {
	type then struct {
		interval time.Duration
		err      error
	}
	cases := []struct {
		scenario string
		given    string
		then     then
	}{
		{"valid_5_fields", "*/15 * * * *", then{15 * time.Minute, nil}},
		{"macro_hourly", "@hourly", then{time.Hour, nil}},
		{"macro_every", "@every 5m", then{5 * time.Minute, nil}},
		{"six_fields", "0 */2 * * * *", then{0, errors.New("expected exactly 5 fields, found 6: [0 */2 * * * *]")}},
		{"invalid_token_5_fields", "* * 32 * *", then{0, errors.New("end of range (32) above maximum (31): 32")}},
		{"empty", "", then{0, errors.New("empty cron expression")}},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			interval, err := model.ParseCron(tc.given)
			if tc.then.err != nil {
				require.EqualError(t, err, tc.then.err.Error())
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.then.interval, interval)
		})
	}
}

func TestParseCueDuration(t *testing.T) {
	cases := []struct {
		given string
		want  time.Duration
		err   string
	}{
		{"2s", 2 * time.Second, ""},
		{"1m30s", 90 * time.Second, ""},
		{"1d2h", 26 * time.Hour, ""},
		{"", 0, "empty duration"},
		{"2 seconds", 0, "invalid duration format"},
		{"30s1m", 0, "invalid duration format"},
		{"999999999999d", 0, "duration overflow"},
	}
	for _, tc := range cases {
		t.Run(tc.given, func(t *testing.T) {
			got, err := model.ParseCueDuration(tc.given)
			if tc.err != "" {
				require.EqualError(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
