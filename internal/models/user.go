package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"
)

const (
	ProfileFocused     = "focused"
	ProfileDiversified = "diversified"
)

// PasswordCost matches the cost factor of existing stored hashes.
var PasswordCost = 10

// maxPasswordBytes is the bcrypt input limit. Longer passwords are truncated
// before hashing and comparing, as existing hashes were made that way.
const maxPasswordBytes = 72

func passwordBytes(password string) []byte {
	b := []byte(password)
	if len(b) > maxPasswordBytes {
		b = b[:maxPasswordBytes]
	}
	return b
}

type User struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email       string             `bson:"email" json:"email"`
	Password    string             `bson:"password" json:"-"`
	Name        string             `bson:"name" json:"name"`
	ProfileType string             `bson:"profileType" json:"profileType"`
	Balance     decimal.Decimal    `bson:"balance" json:"balance"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
}

// NormalizeEmail lower-cases and trims an address the way it is stored.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashPassword hashes the user's password
func (u *User) HashPassword() error {
	hashedPassword, err := bcrypt.GenerateFromPassword(passwordBytes(u.Password), PasswordCost)
	if err != nil {
		return err
	}
	u.Password = string(hashedPassword)
	return nil
}

// CheckPassword checks if the provided password matches the hash
func (u *User) CheckPassword(password string) bool {
	if password == "" || u.Password == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(u.Password), passwordBytes(password))
	return err == nil
}
