package main

import (
	"os"

	"github.com/Obirvalger/lineup/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
