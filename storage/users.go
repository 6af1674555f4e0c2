package storage

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"github.com/molly1022/TMS-Dashboard/domain"
)

const usersPartition = "user"

// UpsertUser creates or replaces a user entity.
func (s *Storage) UpsertUser(ctx context.Context, id domain.Identity) error {
	ent := userEntity{
		Entity:     Entity{PartitionKey: usersPartition, RowKey: id.UserID},
		Name:       id.Name,
		Email:      id.Email,
		EmailLower: strings.ToLower(id.Email),
	}
	payload, err := json.Marshal(ent)
	if err == nil {
		_, err = s.users.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeMerge})
	}
	return mapError(err)
}

// FindUserByEmail returns the user registered with email, or nil.
func (s *Storage) FindUserByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	filter := "PartitionKey eq " + odataQuote(usersPartition) + " and EmailLower eq " + odataQuote(email)
	var top int32 = 1
	pager := s.users.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Top: &top})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		for _, raw := range resp.Entities {
			var ent userEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			return &domain.Identity{UserID: ent.RowKey, Name: ent.Name, Email: ent.Email}, nil
		}
	}
	return nil, nil
}
