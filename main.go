package main

import "github.com/dayuer/botgate/cmd"

func main() {
	cmd.Execute()
}
