package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Env         string
	HTTPAddr    string
	TCPAddr     string // empty disables the framed TCP listener
	DatabaseURL string // empty keeps results in memory
	Tick        time.Duration
	Linger      time.Duration
	MaxPlayers  int
	FillWait    int
	IdleWait    int
	AcceptRate  float64 // TCP accepts per second, 0 for no limit
}

// Load reads .env if there is one, then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

func FromEnv(getenv func(string) string) (Config, error) {
	c := Config{
		Env:         str(getenv, "APP_ENV", "development"),
		HTTPAddr:    str(getenv, "HTTP_ADDR", ":8080"),
		TCPAddr:     getenv("TCP_ADDR"),
		DatabaseURL: getenv("DATABASE_URL"),
	}

	var err error
	ms := func(key string, def int) time.Duration {
		n, e := number(getenv, key, def)
		err = errors.Join(err, e)
		return time.Duration(n) * time.Millisecond
	}
	num := func(key string, def int) int {
		n, e := number(getenv, key, def)
		err = errors.Join(err, e)
		return n
	}

	c.Tick = ms("TICK_MS", 15)
	c.Linger = ms("LINGER_MS", 1000)
	c.MaxPlayers = num("MAX_PLAYERS", 9)
	c.FillWait = num("FILL_WAIT", 10)
	c.IdleWait = num("IDLE_WAIT", 91)

	if v := getenv("ACCEPT_RATE"); v != "" {
		f, e := strconv.ParseFloat(v, 64)
		if e != nil || f < 0 {
			err = errors.Join(err, fmt.Errorf("ACCEPT_RATE: %q is not a non-negative number", v))
		}
		c.AcceptRate = f
	}

	if c.Tick <= 0 {
		err = errors.Join(err, errors.New("TICK_MS must be positive"))
	}
	if c.MaxPlayers < 2 {
		err = errors.Join(err, errors.New("MAX_PLAYERS must be at least 2"))
	}
	if err != nil {
		return Config{}, err
	}
	return c, nil
}

func str(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

func number(getenv func(string) string, key string, def int) (int, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: %q is not a non-negative integer", key, v)
	}
	return n, nil
}

func (c Config) Production() bool { return c.Env == "production" }

// Logger is JSON in production and human readable everywhere else.
func (c Config) Logger() (*zap.Logger, error) {
	if c.Production() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
