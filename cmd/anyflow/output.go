package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	cli "github.com/urfave/cli/v3"
)

func writer(command *cli.Command) io.Writer {
	if w := command.Root().Writer; w != nil {
		return w
	}

	return os.Stdout
}

func printJSON(command *cli.Command, v any) error {
	enc := json.NewEncoder(writer(command))
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

func printBytes(command *cli.Command, data []byte) error {
	if _, err := writer(command).Write(data); err != nil {
		return err
	}

	if len(data) > 0 && data[len(data)-1] != '\n' {
		_, err := fmt.Fprintln(writer(command))

		return err
	}

	return nil
}
