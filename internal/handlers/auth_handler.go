package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"stock-analytica/internal/apperr"
	"stock-analytica/internal/models"
	"stock-analytica/internal/services"
)

// PasswordKeys decrypts the passwords browsers encrypt with the published
// public key. *rsakeys.KeyPair implements it.
type PasswordKeys interface {
	PublicKeyPEM() string
	Decrypt(ciphertext string) (string, error)
}

type AuthHandler struct {
	authService *services.AuthService
	keys        PasswordKeys
}

func NewAuthHandler(authService *services.AuthService, keys PasswordKeys) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		keys:        keys,
	}
}

type RegisterRequest struct {
	Email             string `json:"email" binding:"required"`
	EncryptedPassword string `json:"encryptedPassword" binding:"required"`
	Name              string `json:"name" binding:"required"`
	ProfileType       string `json:"profileType"`
}

type LoginRequest struct {
	Email             string `json:"email" binding:"required"`
	EncryptedPassword string `json:"encryptedPassword" binding:"required"`
}

type AuthResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

func (h *AuthHandler) PublicKey(c *gin.Context) {
	pem := h.keys.PublicKeyPEM()
	if pem == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get public key"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"publicKey": pem})
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email, password, and name are required"})
		return
	}

	password, err := h.keys.Decrypt(req.EncryptedPassword)
	if err != nil {
		respondError(c, err)
		return
	}

	user, token, err := h.authService.Register(c.Request.Context(), services.RegisterInput{
		Email:       req.Email,
		Password:    password,
		Name:        req.Name,
		ProfileType: req.ProfileType,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, AuthResponse{
		Token: token,
		User:  user,
	})
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email and password are required"})
		return
	}

	password, err := h.keys.Decrypt(req.EncryptedPassword)
	if err != nil {
		respondError(c, err)
		return
	}

	user, token, err := h.authService.Login(c.Request.Context(), req.Email, password)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, AuthResponse{
		Token: token,
		User:  user,
	})
}

// AuthMiddleware accepts "Bearer <token>" or a bare token and stores the
// account id under "userID".
func (h *AuthHandler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := strings.TrimSpace(c.GetHeader("Authorization"))
		tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		userID, err := h.authService.Authenticate(tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": apperr.MessageOf(err)})
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}

// GetCurrentUser returns the authenticated account.
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	user, err := h.authService.GetUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}
