package main

import "github.com/alexey-tyurin/messaging-service/cmd"

func main() {
	cmd.Execute()
}
