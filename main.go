package main

import "github.com/arcward/sherpa/cmd"

func main() {
	cmd.Execute()
}
