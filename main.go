package main

import "github.com/yourusername/gpay-checkout/cmd"

func main() {
	cmd.Execute()
}
