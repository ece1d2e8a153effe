package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/database"
	"github.com/stemsi/exstem-attempt/internal/identity"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/service"
)

func main() {
	var students int
	var minutes int
	flag.IntVar(&students, "students", 5, "Number of student tokens to mint")
	flag.IntVar(&minutes, "minutes", 20, "Quiz duration in minutes")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	quizService := service.NewQuizService(repository.NewQuizRepository(pool), rdb, cfg.QuizCacheTTL, log)

	fmt.Println("=== Seeding demo quiz ===")

	created, err := quizService.Create(ctx, &model.CreateQuizRequest{
		Title:           "Fisika Dasar: Gerak Lurus",
		DurationMinutes: minutes,
		IsActive:        true,
		Questions:       demoQuestions(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create quiz")
	}
	fmt.Printf("Created quiz %s with %d questions (%d marks)\n",
		created.Quiz.ID, len(created.Questions), created.Quiz.TotalMarks)

	fmt.Println("\n=== Tokens ===")
	now := time.Now()
	teacher := identity.Principal{Subject: "teacher-1", Name: "Guru Fisika", Role: identity.RoleTeacher}
	printToken(cfg, teacher, now)
	for i := 0; i < students; i++ {
		p := identity.Principal{
			Subject: fmt.Sprintf("student-%d", i+1),
			Name:    fmt.Sprintf("Siswa %d", i+1),
			Role:    identity.RoleStudent,
		}
		printToken(cfg, p, now)
	}

	fmt.Printf("\nSeed completed! Quiz id: %s\n", created.Quiz.ID)
}

func printToken(cfg *config.Config, p identity.Principal, now time.Time) {
	tok, err := identity.Issue(cfg.JWTSecret, p, cfg.JWTExpiry, now)
	if err != nil {
		fmt.Printf("Error minting token for %s: %v\n", p.Subject, err)
		return
	}
	fmt.Printf("%-8s %-12s %s\n", p.Role, p.Subject, tok)
}

func demoQuestions() []model.QuestionDTO {
	return []model.QuestionDTO{
		{
			Type:          "mcq",
			Text:          "Sebuah mobil menempuh 120 km dalam 2 jam. Berapa kecepatan rata-ratanya?",
			Marks:         2,
			Options:       json.RawMessage(`["40 km/jam","60 km/jam","80 km/jam","240 km/jam"]`),
			CorrectAnswer: json.RawMessage(`1`),
		},
		{
			Type:          "true_false",
			Text:          "Percepatan benda yang bergerak lurus beraturan adalah nol.",
			Marks:         1,
			CorrectAnswer: json.RawMessage(`true`),
		},
		{
			Type:          "assertion_reason",
			Text:          "Tentukan hubungan pernyataan dan alasan berikut.",
			Marks:         2,
			Options:       json.RawMessage(`{"assertion":"Benda jatuh bebas mengalami percepatan tetap.","reason":"Gaya gravitasi di dekat permukaan bumi hampir konstan.","choices":["A","B","C","D","E"]}`),
			CorrectAnswer: json.RawMessage(`0`),
		},
		{
			Type:          "fill_in_the_blank",
			Text:          "Satuan SI untuk percepatan adalah ____.",
			Marks:         1,
			CorrectAnswer: json.RawMessage(`["m/s^2","m/s2"]`),
		},
		{
			Type:          "essay",
			Text:          "Jelaskan perbedaan antara jarak dan perpindahan disertai contoh.",
			Marks:         4,
			CorrectAnswer: json.RawMessage(`"Jarak skalar, perpindahan vektor."`),
		},
	}
}
