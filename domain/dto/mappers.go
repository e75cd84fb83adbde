package dto

import (
	"grabpic/domain/models"
)

func UserToResponse(user *models.User) *UserResponse {
	if user == nil {
		return nil
	}

	return &UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Role:      user.Role,
		IsActive:  user.IsActive,
		LastLogin: user.LastLogin,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}

func EventToResponse(event *models.Event) *EventResponse {
	if event == nil {
		return nil
	}

	return &EventResponse{
		ID:            event.ID,
		OwnerUserID:   event.OwnerUserID,
		Name:          event.Name,
		Slug:          event.Slug,
		DriveLink:     event.DriveLink,
		DriveFolderID: event.DriveFolderID,
		Status:        string(event.Status),
		LastSyncedAt:  event.LastSyncedAt,
		CreatedAt:     event.CreatedAt,
		UpdatedAt:     event.UpdatedAt,
	}
}

func EventsToResponses(events []models.Event) []EventResponse {
	responses := make([]EventResponse, len(events))
	for i := range events {
		responses[i] = *EventToResponse(&events[i])
	}
	return responses
}

func JobToResponse(job *models.Job) *JobResponse {
	if job == nil {
		return nil
	}

	return &JobResponse{
		ID:              job.ID,
		Type:            string(job.Type),
		EventID:         job.EventID,
		QueryID:         job.QueryID,
		Status:          string(job.Status),
		ProgressPercent: job.ProgressPercent,
		Stage:           job.Stage,
		ErrorText:       job.ErrorText,
		Payload:         job.PayloadMap(),
		Attempts:        job.Attempts,
		StartedAt:       job.StartedAt,
		CompletedAt:     job.CompletedAt,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
}

func JobsToResponses(jobs []models.Job) []JobResponse {
	responses := make([]JobResponse, len(jobs))
	for i := range jobs {
		responses[i] = *JobToResponse(&jobs[i])
	}
	return responses
}
