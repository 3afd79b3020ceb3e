package template

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"sendloop-engine/pkg/errutil"
	"sendloop-engine/pkg/repository"
)

var Module = fx.Module("template.service",
	fx.Provide(NewService),
)

type Service struct {
	node      *snowflake.Node
	templates repository.Repository[Template]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node:      p.Node,
		templates: repository.ProvideStore[Template](p.DB),
	}
}

func (s *Service) Get(ctx context.Context, tenantID, templateID string) (*Template, error) {
	t, err := s.templates.FindOne(ctx, &Template{ID: templateID, TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errutil.NotFound("template not found")
	}
	return t, nil
}

func (s *Service) Create(ctx context.Context, t *Template) (*Template, error) {
	if !t.Category.Valid() {
		return nil, errutil.ValidationFailed("unknown template category")
	}
	if t.ID == "" {
		t.ID = s.node.Generate().String()
	}
	if err := s.templates.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}
