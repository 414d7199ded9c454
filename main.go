package main

import "github.com/MagaseAiko/ESP32-Security-System/cmd"

func main() {
	cmd.Execute()
}
