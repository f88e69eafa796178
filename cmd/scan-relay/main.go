package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"
)

func main() {
	// Парсинг флагов командной строки
	port := flag.Int("port", 8080, "порт для запуска сервера")
	flag.Parse()

	relay := NewRelay()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           relay.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Запускаем HTTP-сервер
	log.Printf("Запуск сервера на порту %d...", *port)
	log.Printf("Статус сервера доступен по адресу http://localhost%s", server.Addr)
	log.Fatal(server.ListenAndServe())
}
