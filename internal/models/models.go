package models

import "time"

// Account representa um usuário final que recebe um desktop remoto.
// A senha é tratada como texto opaco.
type Account struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Username     string     `gorm:"uniqueIndex;size:64;not null" json:"username"`
	Password     string     `gorm:"size:256;not null" json:"-"`
	LastLoginAt  *time.Time `json:"lastLoginAt"`
	LastLogoutAt *time.Time `json:"lastLogoutAt"`
	IsLoggedIn   bool       `gorm:"not null;default:false" json:"isLoggedIn"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Origens possíveis de um administrador.
const (
	AdminSourceLocal      = "local"
	AdminSourceLDAP       = "ldap"
	AdminSourceBreakGlass = "breakglass"
)

// Admin representa um administrador do painel.
// Password fica vazio quando a autenticação é feita fora da tabela (LDAP, break-glass).
type Admin struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"uniqueIndex;size:128;not null" json:"username"`
	Password  string    `gorm:"size:256" json:"-"`
	Source    string    `gorm:"size:32;default:local" json:"source"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DefaultImageName é o nome da imagem usada quando o usuário não escolhe outra.
const DefaultImageName = "default"

// Image descreve uma imagem de desktop disponível para as sessões.
type Image struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"uniqueIndex;size:128;not null" json:"name"`
	ImageRef string `gorm:"size:512;not null" json:"imageRef"`
	WebPort  int    `gorm:"not null" json:"webPort"`
	VNCPort  int    `gorm:"not null" json:"vncPort"`
}
