package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/rodrigoptu12/supportwhatsapp-sub000/server"
)

func main() {
	// 有 .env 就加载，但不覆盖已设置的环境变量
	if envMap, err := godotenv.Read(); err == nil {
		for k, v := range envMap {
			if os.Getenv(k) == "" {
				os.Setenv(k, v)
			}
		}
	}

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	s := server.NewServer()
	s.Start(addr)
}
