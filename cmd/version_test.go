package cmd

import "testing"

func TestVersionOutput(t *testing.T) {
	original := GetVersion()
	defer SetVersion(original)

	tests := []struct {
		name    string
		version string
		args    []string
		want    string
	}{
		{"subcommand", "1.2.3", []string{"version"}, "autoconf version 1.2.3\n"},
		{"flag", "1.2.3", []string{"--version"}, "autoconf version 1.2.3\n"},
		{"dev build", "dev", []string{"version"}, "autoconf version dev\n"},
		{"empty version", "", []string{"version"}, "autoconf version \n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersion(tt.version)

			got, err := executeCommand(t, tt.args...)
			if err != nil {
				t.Fatalf("executing %v: %v", tt.args, err)
			}
			if got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}
