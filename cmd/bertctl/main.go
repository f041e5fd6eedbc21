package main

import "github.com/OpenTraceLab/OpenTraceBERT/cmd/bertctl/cmd"

func main() {
	cmd.Execute()
}
