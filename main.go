package main

import (
	vanish "github.com/putto11262002/vanish/app"
)

func main() {
	app := vanish.New(nil, nil)
	app.Start()
}
