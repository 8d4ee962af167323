package main

import "github.com/andresmejia3/truckpilot/cmd"

func main() {
	cmd.Execute()
}
