package model

import "time"

type Student struct {
	ID           string
	RegNumber    string
	IndexNumber  string
	Email        string
	Name         string
	Faculty      string
	Department   string
	Level        string
	Address      string
	Birthdate    string
	Gender       string
	Mobile       string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Staff struct {
	ID           string
	Username     string
	Email        string
	Name         string
	Faculty      string
	Department   string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Admin struct {
	ID           string
	Username     string
	Email        string
	Name         string
	Faculty      string
	Department   string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
