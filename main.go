package main

import (
	"github.com/JakeFAU/medprice/cmd"
)

func main() {
	cmd.Execute()
}
