package main

import "github.com/chrisgervang/lonboard/cmd/lonb/cmd"

func main() {
	cmd.Execute()
}
