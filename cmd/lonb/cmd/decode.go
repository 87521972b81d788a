package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chrisgervang/lonboard/decoder"
)

var decodeHead int

var decodeCmd = &cobra.Command{
	Use:   "decode <buffer-file>",
	Short: "Decode a serialized layer buffer and print leading rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		engine, err := decoder.New(nil, nil)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if err := engine.EnsureReady(ctx); err != nil {
			return err
		}

		record, err := engine.Decode(ctx, data)
		if err != nil {
			return err
		}
		defer record.Release()

		n := int64(decodeHead)
		if n > record.NumRows() {
			n = record.NumRows()
		}
		head := record.NewSlice(0, n)
		defer head.Release()

		fmt.Printf("%d rows, showing %d\n", record.NumRows(), n)
		for i := 0; i < int(head.NumCols()); i++ {
			fmt.Printf("%s: %v\n", head.ColumnName(i), head.Column(i))
		}
		return nil
	},
}

func init() {
	decodeCmd.Flags().IntVar(&decodeHead, "head", 10, "number of rows to print")
}
