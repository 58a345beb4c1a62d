package main

import "price-oracle/internal/cli"

func main() {
	cli.Execute()
}
