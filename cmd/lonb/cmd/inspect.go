package cmd

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/chrisgervang/lonboard"
	"github.com/chrisgervang/lonboard/geoarrow"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <buffer-file>",
	Short: "Print the schema and layout of a serialized layer buffer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		buf := lonboard.NewRawBuffer(data)
		file, err := buf.ParquetFile()
		if err != nil {
			return err
		}

		rows, err := buf.NumRows()
		if err != nil {
			return err
		}

		fmt.Printf("size: %s\n", humanize.Bytes(uint64(buf.Len())))
		fmt.Printf("rows: %d\n", rows)
		fmt.Printf("row groups: %d\n", len(file.RowGroups()))
		fmt.Printf("fingerprint: %016x\n", buf.Fingerprint())

		if name, ok := file.Lookup(geoarrow.MetadataColumnKey); ok {
			encoding, _ := file.Lookup(geoarrow.MetadataEncodingKey)
			fmt.Printf("geometry column: %s (%s)\n", name, encoding)
		}

		fmt.Println("columns:")
		for _, f := range file.Schema().Fields() {
			shape := "required"
			switch {
			case f.Repeated():
				shape = "repeated"
			case f.Optional():
				shape = "optional"
			}
			fmt.Printf("  %s: %s %s\n", f.Name(), f.Type(), shape)
		}
		return nil
	},
}
