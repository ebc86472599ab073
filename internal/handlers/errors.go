package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"stock-analytica/internal/apperr"
	"stock-analytica/internal/logger"
)

var log = logger.New("http")

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.Validation, apperr.Duplicate, apperr.InsufficientFunds, apperr.InsufficientShares, apperr.Decryption:
		return http.StatusBadRequest
	case apperr.Auth:
		return http.StatusUnauthorized
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Unavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error": message} with the status of err's kind.
// Causes are logged, never sent.
func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusOf(kind)
	if status >= http.StatusInternalServerError {
		log.WithFields(map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Error("%v", err)
	}
	c.JSON(status, gin.H{"error": apperr.MessageOf(err)})
}

// bindMessage names the offending field of a malformed body, or falls back
// to the endpoint's own message.
func bindMessage(err error, fallback string) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return "Invalid value for " + typeErr.Field
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return "Request body must be valid JSON"
	}
	return fallback
}

// objectID parses a hex id from a path or body. A malformed id cannot name a
// stored document, so it is reported as notFound.
func objectID(raw string, notFound string) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, apperr.NotFoundf("%s", notFound)
	}
	return id, nil
}

// currentUser returns the account id set by AuthMiddleware.
func currentUser(c *gin.Context) (primitive.ObjectID, bool) {
	v, exists := c.Get("userID")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return primitive.NilObjectID, false
	}
	id, ok := v.(primitive.ObjectID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return primitive.NilObjectID, false
	}
	return id, true
}
