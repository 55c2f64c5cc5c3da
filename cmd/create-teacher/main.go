package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin/binding"
	"github.com/stemsi/liveclass/internal/config"
	"github.com/stemsi/liveclass/internal/database"
	"github.com/stemsi/liveclass/internal/logger"
	"github.com/stemsi/liveclass/internal/repository"
	"github.com/stemsi/liveclass/internal/service"
	"github.com/stemsi/liveclass/internal/validator"
	"golang.org/x/term"
)

type teacherInput struct {
	Name     string `json:"name" binding:"required,max=100"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, nil)
	validator.Setup()

	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// Registration only hashes and stores; no token state is touched.
	authService := service.NewAuthService(cfg, nil, repository.NewTeacherRepository(pool))

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)
	fmt.Println("=== Create Teacher Account ===")

	in := teacherInput{
		Name:  prompt(reader, "Enter Name: "),
		Email: prompt(reader, "Enter Email: "),
	}

	fmt.Print("Enter Password: ")
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		fmt.Println("Error reading password")
		os.Exit(1)
	}
	in.Password = string(pw)

	fmt.Print("Repeat Password: ")
	again, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil || string(again) != in.Password {
		fmt.Println("Error: passwords do not match")
		os.Exit(1)
	}

	if err := binding.Validator.ValidateStruct(&in); err != nil {
		for field, msg := range validator.TranslateErrors(err) {
			fmt.Printf("Error: %s: %s\n", field, msg)
		}
		os.Exit(1)
	}

	teacher, err := authService.RegisterTeacher(ctx, in.Name, in.Email, in.Password)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create teacher")
	}

	fmt.Printf("\nSuccess! Teacher '%s' (%s) created with ID: %d\n", teacher.Name, teacher.Email, teacher.ID)
}

func prompt(r *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}
