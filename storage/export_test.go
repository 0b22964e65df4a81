package storage

var NewSealedRepositoryWithParams = newSealedRepository
