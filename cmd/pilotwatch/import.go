package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/capsuleworks/pilotwatch/internal/db"
	"github.com/capsuleworks/pilotwatch/internal/models"
)

// roster is the YAML seed file format for bootstrapping an instance.
type roster struct {
	Users []struct {
		Email    string `yaml:"email"`
		Password string `yaml:"password"`
		Role     string `yaml:"role"`
	} `yaml:"users"`
	Pilots []struct {
		Name      string `yaml:"name"`
		Owner     string `yaml:"owner"` // user email
		GameID    int64  `yaml:"game_id"`
		Monitored bool   `yaml:"monitored"`
	} `yaml:"pilots"`
	Skills []struct {
		TypeID int64  `yaml:"type_id"`
		Name   string `yaml:"name"`
		Group  string `yaml:"group"`
		Rank   int    `yaml:"rank"`
	} `yaml:"skills"`
}

var importCmd = &cobra.Command{
	Use:   "import <roster.yaml>",
	Short: "Import users, pilots, and the skill catalogue from a YAML roster",
	Long:  "Seed the database from a YAML roster file. Existing records matched by email, game id, or type id are left untouched.",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}

	var r roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return fmt.Errorf("parse roster: %w", err)
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() { _ = db.Close(database) }()

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	usersByEmail := make(map[string]string, len(r.Users))
	for _, entry := range r.Users {
		if entry.Email == "" || entry.Password == "" {
			return fmt.Errorf("user entries need email and password")
		}

		var existing models.User
		if err := database.First(&existing, "email = ?", entry.Email).Error; err == nil {
			usersByEmail[entry.Email] = existing.ID
			logger.Info().Str("email", entry.Email).Msg("user exists, skipping")
			continue
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(entry.Password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", entry.Email, err)
		}

		role := models.RoleName(entry.Role)
		switch role {
		case models.RoleAdmin, models.RoleOperator, models.RoleViewer:
		case "":
			role = models.RoleViewer
		default:
			return fmt.Errorf("unknown role %q for %s", entry.Role, entry.Email)
		}

		user := models.User{
			ID:       uuid.NewString(),
			Email:    entry.Email,
			Password: string(hash),
			Role:     role,
		}
		if err := database.Create(&user).Error; err != nil {
			return fmt.Errorf("create user %s: %w", entry.Email, err)
		}

		prefs := models.DefaultNotificationPreferences(user.ID)
		for i := range prefs {
			prefs[i].ID = uuid.NewString()
		}
		if err := database.Create(&prefs).Error; err != nil {
			return fmt.Errorf("create preferences for %s: %w", entry.Email, err)
		}

		usersByEmail[entry.Email] = user.ID
		logger.Info().Str("email", entry.Email).Str("role", string(role)).Msg("user imported")
	}

	for _, entry := range r.Skills {
		if entry.TypeID == 0 || entry.Name == "" {
			return fmt.Errorf("skill entries need type_id and name")
		}
		var existing models.Skill
		if err := database.First(&existing, "type_id = ?", entry.TypeID).Error; err == nil {
			continue
		}
		skill := models.Skill{
			TypeID:    entry.TypeID,
			Name:      entry.Name,
			GroupName: entry.Group,
			Rank:      entry.Rank,
		}
		if err := database.Create(&skill).Error; err != nil {
			return fmt.Errorf("create skill %d: %w", entry.TypeID, err)
		}
	}

	for _, entry := range r.Pilots {
		if entry.Name == "" || entry.GameID == 0 {
			return fmt.Errorf("pilot entries need name and game_id")
		}
		ownerID, ok := usersByEmail[entry.Owner]
		if !ok {
			var owner models.User
			if err := database.First(&owner, "email = ?", entry.Owner).Error; err != nil {
				return fmt.Errorf("pilot %s: owner %q not found", entry.Name, entry.Owner)
			}
			ownerID = owner.ID
		}

		var existing models.Pilot
		if err := database.First(&existing, "game_id = ?", entry.GameID).Error; err == nil {
			logger.Info().Str("pilot", entry.Name).Msg("pilot exists, skipping")
			continue
		}

		pilot := models.Pilot{
			ID:        uuid.NewString(),
			Name:      entry.Name,
			UserID:    ownerID,
			GameID:    entry.GameID,
			Monitored: entry.Monitored,
		}
		if err := database.Create(&pilot).Error; err != nil {
			return fmt.Errorf("create pilot %s: %w", entry.Name, err)
		}
		logger.Info().Str("pilot", entry.Name).Bool("monitored", entry.Monitored).Msg("pilot imported")
	}

	logger.Info().
		Int("users", len(r.Users)).
		Int("skills", len(r.Skills)).
		Int("pilots", len(r.Pilots)).
		Msg("roster import complete")
	return nil
}
