package source_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/go-queryflow/pkg/source"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestClient_Dog(t *testing.T) {
	ctx := context.Background()

	t.Run("Decodes a valid payload", func(t *testing.T) {
		// Arrange
		srv, _ := jsonServer(t, http.StatusOK, `{"message":"https://images.dog.ceo/breeds/hound/1.jpg","status":"success"}`)
		client := source.NewClient(source.Config{DogURL: srv.URL}, zerolog.Nop())

		// Act
		dog, err := client.Dog(ctx)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "https://images.dog.ceo/breeds/hound/1.jpg", dog.Message)
		assert.Equal(t, "success", dog.Status)
	})

	t.Run("Non-2xx status", func(t *testing.T) {
		srv, _ := jsonServer(t, http.StatusNotFound, `{"status":"error"}`)
		client := source.NewClient(source.Config{DogURL: srv.URL}, zerolog.Nop())

		_, err := client.Dog(ctx)

		require.Error(t, err)
		assert.ErrorIs(t, err, source.ErrUnexpectedStatus)
		var se *source.StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusNotFound, se.Code)
	})

	t.Run("Undecodable body", func(t *testing.T) {
		srv, _ := jsonServer(t, http.StatusOK, `<html>`)
		client := source.NewClient(source.Config{DogURL: srv.URL}, zerolog.Nop())

		_, err := client.Dog(ctx)

		assert.ErrorIs(t, err, source.ErrMalformedPayload)
	})

	t.Run("Failed status field", func(t *testing.T) {
		srv, _ := jsonServer(t, http.StatusOK, `{"message":"https://x/y.jpg","status":"error"}`)
		client := source.NewClient(source.Config{DogURL: srv.URL}, zerolog.Nop())

		_, err := client.Dog(ctx)

		assert.ErrorIs(t, err, source.ErrMalformedPayload)
	})
}

func TestClient_Joke(t *testing.T) {
	ctx := context.Background()

	t.Run("Decodes a valid payload", func(t *testing.T) {
		srv, _ := jsonServer(t, http.StatusOK, `{"id":7,"type":"general","setup":"Knock knock","punchline":"Who's there?"}`)
		client := source.NewClient(source.Config{JokeURL: srv.URL}, zerolog.Nop())

		joke, err := client.Joke(ctx)

		require.NoError(t, err)
		assert.Equal(t, "Knock knock", joke.Setup)
		assert.Equal(t, "Who's there?", joke.Punchline)
	})

	t.Run("Missing punchline", func(t *testing.T) {
		srv, _ := jsonServer(t, http.StatusOK, `{"setup":"Knock knock"}`)
		client := source.NewClient(source.Config{JokeURL: srv.URL}, zerolog.Nop())

		_, err := client.Joke(ctx)

		assert.ErrorIs(t, err, source.ErrMalformedPayload)
	})
}

func TestClient_User(t *testing.T) {
	ctx := context.Background()

	t.Run("Decodes a valid payload", func(t *testing.T) {
		srv, _ := jsonServer(t, http.StatusOK, `{"results":[{
			"name":{"first":"Ada","last":"Lovelace"},
			"email":"ada@example.com",
			"picture":{"large":"https://randomuser.me/api/portraits/women/1.jpg"},
			"location":{"city":"London","country":"United Kingdom"}}]}`)
		client := source.NewClient(source.Config{UserURL: srv.URL}, zerolog.Nop())

		profile, err := client.User(ctx)

		require.NoError(t, err)
		user, ok := profile.First()
		require.True(t, ok)
		assert.Equal(t, "Ada", user.Name.First)
		assert.Equal(t, "London", user.Location.City)
	})

	t.Run("Empty results", func(t *testing.T) {
		srv, _ := jsonServer(t, http.StatusOK, `{"results":[]}`)
		client := source.NewClient(source.Config{UserURL: srv.URL}, zerolog.Nop())

		_, err := client.User(ctx)

		assert.ErrorIs(t, err, source.ErrMalformedPayload)
	})
}

func TestClient_CircuitBreaker(t *testing.T) {
	ctx := context.Background()

	t.Run("Opens after repeated server errors", func(t *testing.T) {
		// Arrange
		srv, hits := jsonServer(t, http.StatusBadGateway, `{}`)
		client := source.NewClient(source.Config{
			JokeURL: srv.URL,
			Breaker: source.BreakerConfig{
				MaxRequests:      1,
				Interval:         time.Minute,
				Timeout:          time.Minute,
				MinRequests:      2,
				FailureThreshold: 0.5,
			},
		}, zerolog.Nop())

		// Act
		_, err1 := client.Joke(ctx)
		_, err2 := client.Joke(ctx)
		_, err3 := client.Joke(ctx)

		// Assert
		assert.ErrorIs(t, err1, source.ErrUnexpectedStatus)
		assert.ErrorIs(t, err2, source.ErrUnexpectedStatus)
		assert.ErrorIs(t, err3, gobreaker.ErrOpenState)
		assert.Equal(t, int32(2), hits.Load(), "an open breaker must not reach the server")
	})

	t.Run("Bad payloads do not trip the breaker", func(t *testing.T) {
		srv, hits := jsonServer(t, http.StatusOK, `{}`)
		client := source.NewClient(source.Config{
			JokeURL: srv.URL,
			Breaker: source.BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, MinRequests: 1, FailureThreshold: 0.1},
		}, zerolog.Nop())

		for i := 0; i < 3; i++ {
			_, err := client.Joke(ctx)
			assert.ErrorIs(t, err, source.ErrMalformedPayload)
		}
		assert.Equal(t, int32(3), hits.Load())
	})

	t.Run("Breakers are per endpoint", func(t *testing.T) {
		bad, _ := jsonServer(t, http.StatusInternalServerError, `{}`)
		good, _ := jsonServer(t, http.StatusOK, `{"message":"https://x/y.jpg","status":"success"}`)
		client := source.NewClient(source.Config{
			DogURL:  good.URL,
			JokeURL: bad.URL,
			Breaker: source.BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, MinRequests: 1, FailureThreshold: 0.5},
		}, zerolog.Nop())

		_, _ = client.Joke(ctx)
		_, jokeErr := client.Joke(ctx)
		_, dogErr := client.Dog(ctx)

		assert.ErrorIs(t, jokeErr, gobreaker.ErrOpenState)
		assert.NoError(t, dogErr)
	})
}
