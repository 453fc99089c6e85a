package guard

import (
	"errors"
	"testing"
)

type light string

const (
	red    light = "red"
	green  light = "green"
	yellow light = "yellow"
	off    light = "off"
)

func TestTableEnsure(t *testing.T) {
	table := NewTable("light", map[light][]light{
		red:    {green, off},
		green:  {yellow, off},
		yellow: {red, off},
	})

	cases := []struct {
		name    string
		from    light
		to      light
		wantErr bool
	}{
		{name: "allowed", from: red, to: green},
		{name: "skip state", from: red, to: yellow, wantErr: true},
		{name: "from terminal", from: off, to: red, wantErr: true},
		{name: "self loop not declared", from: green, to: green, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := table.Ensure(tc.from, tc.to)
			if tc.wantErr {
				var invalid *InvalidTransitionError
				if !errors.As(err, &invalid) {
					t.Fatalf("expected InvalidTransitionError, got %v", err)
				}
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("expected errors.Is ErrInvalidTransition")
				}
				if invalid.Current != string(tc.from) || invalid.Requested != string(tc.to) {
					t.Fatalf("unexpected error fields: %+v", invalid)
				}
				return
			}
			if err != nil {
				t.Fatalf("expected nil, got %v", err)
			}
		})
	}

	if !table.Terminal(off) || table.Terminal(red) {
		t.Fatalf("terminal detection mismatch")
	}
}
