package main

import "github.com/ypreiser/botgate/cmd"

func main() {
	cmd.Execute()
}
