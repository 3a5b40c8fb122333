package main

import (
	"log"
)

func main() {
	server, cleanup, err := Setup()
	if err != nil {
		log.Fatalf("main start failed %v", err)
		return
	}

	err = server.Run()
	cleanup()
	if err != nil {
		log.Fatalf("server stopped %v", err)
	}
}
