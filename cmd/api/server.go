package main

import (
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"os"

	mw "sharetab/internal/api/middlewares"
	"sharetab/internal/api/routers"
	"sharetab/internal/repositories/sqlconnect"
	"sharetab/pkg/cron"
	"sharetab/pkg/utils"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on environment")
	}

	utils.InitLogger()

	db, err := sqlconnect.Connect()
	if err != nil {
		utils.Logger.Fatal("DB connection failed: ", err)
	}
	defer db.Close()

	cronRunner := cron.StartCronJob(db)
	defer cronRunner.Stop()

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = ":3000"
	}

	rl := mw.NewRateLimiter(10, 30)

	router := routers.MainRouter(db)
	jwtMiddleware := mw.MiddlewaresExcludePaths(mw.JWTMiddleware, "/users/signup", "/users/login")

	secureMux := mw.RequestID(rl.Middleware(jwtMiddleware(mw.SecurityHeaders(router))))

	cert := os.Getenv("CERT_FILE")
	key := os.Getenv("KEY_FILE")

	server := &http.Server{
		Addr:    port,
		Handler: secureMux,
		TLSConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}

	fmt.Println("Server is running on port", port)

	if cert != "" && key != "" {
		err = server.ListenAndServeTLS(cert, key)
	} else {
		err = server.ListenAndServe()
	}
	if err != nil {
		log.Fatalln("Error starting the server", err)
	}
}
