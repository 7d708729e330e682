package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crownstone/bluenet-sub000/internal/uart"
)

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Print a power log stream in human-readable form",
	Long: `Read framed CBOR power logs from --port (or a file given as argument) and
print one line per message. Corrupt frames are reported and skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, args []string) error {
	var r io.ReadCloser
	switch {
	case len(args) == 1:
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		r = f
	case portName != "":
		port, err := uart.OpenPort(portName, baudRate)
		if err != nil {
			return err
		}
		r = port
	default:
		return fmt.Errorf("need --port or a file")
	}
	defer r.Close()

	out := cmd.OutOrStdout()
	return uart.ReadMessages(r, func(m uart.Message) {
		fmt.Fprint(out, formatMessage(m))
	})
}

// formatMessage renders one message on a single line.
func formatMessage(m uart.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %-16s n=%-3d", m.Timestamp.UTC().Format("15:04:05.000000"), m.Opcode, len(m.Values))
	const maxShown = 12
	for i, v := range m.Values {
		if i == maxShown {
			fmt.Fprintf(&b, " ...")
			break
		}
		fmt.Fprintf(&b, " %d", v)
	}
	b.WriteByte('\n')
	return b.String()
}
