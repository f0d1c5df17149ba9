package middleware

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"

	"github.com/raid177/supportdesk/acl"
	"github.com/raid177/supportdesk/database"
)

// jwtKey - ключ для подписи JWT токена
var jwtKey []byte

func init() {
	jwtSecret := os.Getenv("JWT_SECRET_KEY")
	if jwtSecret == "" {
		log.Println("Предупреждение: JWT_SECRET_KEY не установлен, используется стандартный ключ")
		jwtSecret = "временный_ключ_для_разработки_не_использовать_в_продакшене"
	}
	jwtKey = []byte(jwtSecret)
}

// SetJWTKey задаёт ключ подписи из конфигурации. init() читает окружение
// до загрузки .env, поэтому значение из конфигурации имеет последнее слово.
func SetJWTKey(secret string) {
	if secret != "" {
		jwtKey = []byte(secret)
	}
}

// JWTClaims определяет структуру данных токена
type JWTClaims struct {
	AgentID string `json:"agentId"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// AuthMiddleware проверяет JWT токен и сверяет идентичность с ACL кэшем
func AuthMiddleware(aclCache *acl.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "требуется авторизация"})
			c.Abort()
			return
		}

		tokenString := strings.Replace(authHeader, "Bearer ", "", 1)
		claims, err := validateToken(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "неверный или устаревший токен"})
			c.Abort()
			return
		}

		// Токен валиден, но сотрудник мог быть деактивирован после выдачи —
		// последнее слово за ACL кэшем
		if !aclCache.IsAllowed(c.Request.Context(), claims.AgentID) {
			c.JSON(http.StatusForbidden, gin.H{"error": "доступ запрещён"})
			c.Abort()
			return
		}

		c.Set("agentID", claims.AgentID)
		c.Set("role", claims.Role)

		c.Next()
	}
}

// GenerateToken генерирует JWT токен сотрудника (срок действия 24 часа)
func GenerateToken(agentID, role string) (string, error) {
	expirationTime := time.Now().Add(24 * time.Hour)

	claims := &JWTClaims{
		AgentID: agentID,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "supportdesk",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(jwtKey)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// ValidateToken проверяет и парсит JWT токен (экспортированная версия)
func ValidateToken(tokenString string) (*JWTClaims, error) {
	return validateToken(tokenString)
}

func validateToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("неожиданный метод подписи: %v", token.Header["alg"])
		}
		return jwtKey, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("недействительный токен")
	}
	claims, ok := token.Claims.(*JWTClaims)
	if !ok {
		return nil, errors.New("неверный формат токена")
	}
	return claims, nil
}

// Authenticate аутентифицирует сотрудника по email и паролю
func Authenticate(ctx context.Context, store database.Store, email, password string) (string, error) {
	agent, err := store.GetAgentByEmail(ctx, email)
	if err != nil || agent == nil {
		return "", errors.New("неверные учетные данные")
	}

	if !agent.Active {
		return "", errors.New("аккаунт деактивирован")
	}

	if err := database.VerifyPassword(password, agent.PasswordHash); err != nil {
		return "", errors.New("неверные учетные данные")
	}

	token, err := GenerateToken(agent.ID.String(), agent.Role)
	if err != nil {
		return "", err
	}
	return token, nil
}
