package validation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/forecast-cache-service/internal/models"
)

// ErrCoordinatesMissing is returned when lat or long is empty or whitespace-only.
var ErrCoordinatesMissing = errors.New("lat and long are required")

// ErrCoordinatesNotNumeric is returned when lat or long does not parse as a decimal number.
var ErrCoordinatesNotNumeric = errors.New("lat and long must be numeric")

// ErrCoordinatesOutOfRange is returned when lat is outside [-90, 90] or long outside [-180, 180].
var ErrCoordinatesOutOfRange = errors.New("coordinates out of range")

var validate = validator.New()

// ParseCoordinates parses and validates the lat/long query values.
// Errors wrap one of the sentinels above and are suitable for 400 INVALID_COORDINATES responses.
// The parsed values are used as-is for exact-match store lookups; no rounding is applied.
func ParseCoordinates(latInput, longInput string) (models.Coordinate, error) {
	latStr := strings.TrimSpace(latInput)
	longStr := strings.TrimSpace(longInput)
	if latStr == "" || longStr == "" {
		return models.Coordinate{}, ErrCoordinatesMissing
	}
	lat, err := parseDecimal(latStr)
	if err != nil {
		return models.Coordinate{}, fmt.Errorf("%w: lat %q", ErrCoordinatesNotNumeric, latInput)
	}
	long, err := parseDecimal(longStr)
	if err != nil {
		return models.Coordinate{}, fmt.Errorf("%w: long %q", ErrCoordinatesNotNumeric, longInput)
	}
	c := models.Coordinate{Latitude: lat, Longitude: long}
	if err := ValidateCoordinate(c); err != nil {
		return models.Coordinate{}, err
	}
	return c, nil
}

// ValidateCoordinate checks latitude and longitude ranges.
func ValidateCoordinate(c models.Coordinate) error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s", ErrCoordinatesOutOfRange, strings.ToLower(verrs[0].Field()))
		}
		return fmt.Errorf("%w: %w", ErrCoordinatesOutOfRange, err)
	}
	return nil
}

// parseDecimal rejects NaN and infinities, which strconv accepts.
func parseDecimal(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("not a finite number: %s", s)
	}
	return v, nil
}
