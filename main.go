package main

import "github.com/ThomasHoins/Intunewin/cmd"

func main() {
	cmd.Execute()
}
