package main

import "noodle-backend/cmd/cli"

func main() {
	cli.Execute()
}
