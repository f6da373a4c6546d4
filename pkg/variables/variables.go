package variables

import (
	"log"
	"os"
	"strconv"
	"time"
)

const (
	HTTP_PORT_DEFAULT = "8080"
	HTTP_PORT_NAME    = "HTTP_PORT"

	DEFAULT_MAX_MIC_SLOTS_NAME    = "DEFAULT_MAX_MIC_SLOTS"
	DEFAULT_MAX_MIC_SLOTS_DEFAULT = "4"

	// Shared secret checked against the Bearer token of admin calls. Empty disables the check.
	ADMIN_TOKEN_NAME    = "ADMIN_TOKEN"
	ADMIN_TOKEN_DEFAULT = ""

	ROOMS_NAME    = "ROOMS"
	ROOMS_DEFAULT = "test"

	LOG_LEVEL_NAME    = "LOG_LEVEL"
	LOG_LEVEL_DEFAULT = "debug"
)

func Env(variableName, defaultValue string) string {
	if variable := os.Getenv(variableName); variable != "" {
		log.Printf("[%s]: %s", variableName, variable)
		return variable
	}
	log.Printf("[%s_DEFAULT]: %s", variableName, defaultValue)
	return defaultValue
}

func ParseInt(value string) (int, error) {
	return strconv.Atoi(value)
}

func ParseDuration(value string) (time.Duration, error) {
	return time.ParseDuration(value)
}
