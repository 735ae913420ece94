package repository

import (
	"context"

	"smarthouse-data/internal/domain"
	"smarthouse-data/internal/occupancy"
)

// OccupancyView 入住统计视图
type OccupancyView struct {
	Addresses []occupancy.AddressOccupancy `json:"addresses"`
	Totals    occupancy.Totals             `json:"totals"`
}

// Occupancy 基于缓存的设置和在住的员工/非员工计算；coordinatorID 非空时只返回其负责的住址
func (r *Repository) Occupancy(ctx context.Context, coordinatorID string) (*OccupancyView, error) {
	s, err := r.Settings(ctx)
	if err != nil {
		return nil, err
	}
	active := PeopleFilter{Status: domain.StatusActive}
	employees, err := r.ListEmployees(ctx, active)
	if err != nil {
		return nil, err
	}
	nonEmployees, err := r.ListNonEmployees(ctx, active)
	if err != nil {
		return nil, err
	}

	addresses := make([]domain.Address, 0, len(s.Addresses))
	for _, a := range s.Addresses {
		if a.IsActive && a.ManagedBy(coordinatorID) {
			addresses = append(addresses, a)
		}
	}
	occupants := make([]occupancy.Occupant, 0, len(employees)+len(nonEmployees))
	for _, e := range employees {
		occupants = append(occupants, occupancy.FromPerson(domain.KindEmployee, e.Person))
	}
	for _, n := range nonEmployees {
		occupants = append(occupants, occupancy.FromPerson(domain.KindNonEmployee, n.Person))
	}

	items := occupancy.Compute(addresses, occupants)
	return &OccupancyView{Addresses: items, Totals: occupancy.Sum(items)}, nil
}
