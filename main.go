package main

import "github.com/audiolibrelab/fluentdrill/cmd"

func main() {
	cmd.Execute()
}
